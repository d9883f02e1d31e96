package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"shop:pw@tcp(db:3306)/keymart?charset=utf8mb4&parseTime=true&loc=UTC",
		dsn("shop", "pw", "db", "3306", "keymart"))

	// An empty password must not leave a dangling colon.
	assert.Equal(t,
		"shop@tcp(localhost:3306)/keymart?charset=utf8mb4&parseTime=true&loc=UTC",
		dsn("shop", "", "localhost", "3306", "keymart"))
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 25, o.MaxOpenConns)
	assert.Equal(t, 25, o.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, o.ConnMaxLifetime)
	assert.Equal(t, 5*time.Second, o.PingTimeout)

	// Configured values pass through untouched; the idle pool follows
	// the open pool when only the latter is set.
	o = Options{MaxOpenConns: 10, ConnMaxLifetime: time.Hour}.withDefaults()
	assert.Equal(t, 10, o.MaxOpenConns)
	assert.Equal(t, 10, o.MaxIdleConns)
	assert.Equal(t, time.Hour, o.ConnMaxLifetime)
}
