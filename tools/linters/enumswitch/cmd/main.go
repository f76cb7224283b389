package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"basegraph.app/warden/tools/linters/enumswitch"
)

func main() {
	singlechecker.Main(enumswitch.Analyzer)
}
