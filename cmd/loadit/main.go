// Command loadit is the cluster CLI of spec.md §6: start-node runs a
// central coordinator and/or worker process; query runs a query-file
// document against a local database root, or against a running node when
// --server is given; session administers the cluster's
// session store.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
