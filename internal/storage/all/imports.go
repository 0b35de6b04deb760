// Package all registers every built-in storage backend. Import it for side
// effects:
//
//	import _ "httpetl/internal/storage/all"
package all

import (
	_ "httpetl/internal/storage/mssql"
	_ "httpetl/internal/storage/mysql"
	_ "httpetl/internal/storage/postgres"
	_ "httpetl/internal/storage/sqlite"
)
