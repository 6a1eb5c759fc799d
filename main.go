/*
Copyright 2023 Markus Papenbrock
*/
package main

import "github.com/mpapenbr/iracelog-sectortiming/cmd"

func main() {
	cmd.Execute()
}
