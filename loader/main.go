package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"
	_ "ariga.io/atlas-go-sdk/recordriver"

	"github.com/kontorhq/kontor-backend/models"
)

// Prints the SQL schema of every persistent model, for atlas to diff against
// the production database. Run with `go run ./loader`.
func main() {
	stmts, err := gormschema.New("postgres").Load(
		&models.Company{},
		&models.User{},
		&models.Product{},
		&models.File{},
		&models.BulkRequest{},
		&models.Token{},
		&models.WorkerToken{},
		&models.RevokedToken{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
