package main

import "github.com/ValentinKolb/msgpackrpc/cmd"

func main() {
	cmd.Execute()
}
