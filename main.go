package main

import "github.com/sigtrail/matchchain/cmd"

func main() {
	cmd.Execute()
}
