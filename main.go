package main

import "github.com/subhash-salian-dpcontrols/DataDiscoveryServer/cmd"

func main() {
	cmd.Execute()
}
