package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN_KeywordForm(t *testing.T) {
	got := dsn(Config{User: "crm", Host: "db", Port: "5432", Password: "pw", Database: "inbox"})
	assert.Equal(t, "host=db user=crm password=pw dbname=inbox port=5432 sslmode=disable TimeZone=UTC", got)

	got = dsn(Config{User: "crm", Host: "db", Port: "5432", Database: "inbox", SSLMode: "require"})
	assert.Contains(t, got, "sslmode=require")
}

func TestDSN_URLWins(t *testing.T) {
	got := dsn(Config{Host: "ignored", URL: "postgres://crm:pw@db:5432/inbox?sslmode=disable"})
	assert.Equal(t, "postgres://crm:pw@db:5432/inbox?TimeZone=UTC&sslmode=disable", got)

	kept := "postgres://crm@db/inbox?TimeZone=America/Mexico_City"
	assert.Equal(t, kept, dsn(Config{URL: kept}))
}
