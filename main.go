package main

import "hlshunter/cmd"

func main() {
	cmd.Execute()
}
