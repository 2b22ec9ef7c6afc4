package sqlite

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"modernc.org/sqlite"
)

// fold is the case folding behind every case-insensitive match: category
// names, the duplicate-category rule and list searches. It is also
// registered as the SQL function fold(), so a query and the Go code that
// builds its arguments always fold the same way. SQLite's built-in lower()
// only folds ASCII and would never match "Éclair" against "éclair".
func fold(s string) string {
	return strings.ToLower(s)
}

func init() {
	err := sqlite.RegisterDeterministicScalarFunction("fold", 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case nil:
				return nil, nil
			case string:
				return fold(v), nil
			case []byte:
				return fold(string(v)), nil
			default:
				return nil, fmt.Errorf("fold: unsupported argument type %T", v)
			}
		})
	if err != nil {
		panic(fmt.Sprintf("sqlite: registering fold(): %v", err))
	}
}
