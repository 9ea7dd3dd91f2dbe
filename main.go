package main

import "github.com/hatchdata/askdb/cmd"

func main() {
	cmd.Execute()
}
