package main

import "github.com/wata-gh/prdash/cmd"

func main() {
	cmd.Execute()
}
