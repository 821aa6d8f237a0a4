// Package database provides SQLite connectivity for Brew Bridge.
//
// The store is small: fermentation profiles (written by the owning
// application, read by the bridge) and the transport address cache
// (written by the bridge after a successful connect).
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are additive: new columns must be nullable or carry a
// default, and every .up.sql ships with a .down.sql.
package database
