package main

import (
	"fmt"
	"os"

	migration "github.com/opengovern/og-search-migration/services/migration"
)

func main() {
	if err := migration.Command().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
