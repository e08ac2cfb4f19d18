package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "loadit",
	Short: "A columnar database engine for finite-element analysis result tables",
}
