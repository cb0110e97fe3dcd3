package main

import "example.com/labops/services/batch/cmd"

func main() {
	cmd.Execute()
}
