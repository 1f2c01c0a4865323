// Command lockcovers builds lock-screen wallpapers from magazine covers.
package main

import (
	"github.com/JakeFAU/lockscreen-covers/cmd"
)

func main() {
	cmd.Execute()
}
