// Command hybridsearch serves hybrid vector + full-text retrieval over HTTP.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
