package main

import (
	"fmt"

	"github.com/openziti/unlock-automation/unlock"
)

func main() {
	fmt.Printf("%s", unlock.Version)
}
