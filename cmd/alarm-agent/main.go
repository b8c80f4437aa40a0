package main

import "github.com/rdvincent/tutanota/cmd/alarm-agent/cmd"

func main() {
	cmd.Execute()
}
