package main

import "github.com/zeroc-ice/ice-sub018/cmd"

func main() {
	cmd.Execute()
}
