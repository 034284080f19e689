// Command stratopt searches strategy parameters with a genetic algorithm
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
