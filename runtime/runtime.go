package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Runtime struct {
	DB     *sql.DB
	Config *Config
}

func OpenDBPool(url string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("unable to open database connection: '%s'", url)
	}

	// configure our pool
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(time.Minute * 30)

	// ping database...
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	err = db.PingContext(ctx)
	cancel()

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	return db, nil
}
