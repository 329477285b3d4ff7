// The main package for the thread-archiver executable.
package main

import (
	"github.com/JakeFAU/thread-archiver/cmd"
)

func main() {
	cmd.Execute()
}
