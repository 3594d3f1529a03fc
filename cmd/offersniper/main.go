package main

import "github.com/example/offer-sniper/cmd"

func main() {
	cmd.Execute()
}
