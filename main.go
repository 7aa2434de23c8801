package main

import "github.com/Manu343726/tcd/cmd/tcd"

func main() {
	tcd.Execute()
}
