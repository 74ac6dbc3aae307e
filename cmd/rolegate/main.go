package main

import "github.com/terraconstructs/rolegate/cmd/rolegate/cmd"

func main() {
	cmd.Execute()
}
