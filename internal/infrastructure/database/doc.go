// Package database provides the node's SQLite handle.
//
// The node persists small amounts of state that must survive a restart:
// the safety controller's emergency state, loaded driver libraries and the
// offline buffer snapshot. Package storage layers a key/value store on top
// of the kv_store table created by the embedded migrations.
//
// Migrations are forward-only and additive:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Files are named YYYYMMDD_HHMMSS_description.up.sql
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
