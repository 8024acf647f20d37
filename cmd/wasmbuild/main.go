package main

import "wasmbuild/internal/wasmbuild"

func main() {
	wasmbuild.Main()
}
