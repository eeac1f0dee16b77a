package main

import "github.com/Mohsinsiddi/w3permit/cmd"

func main() {
	cmd.Execute()
}
