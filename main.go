// Command paperscraper fetches academic papers through prioritized fallback strategies.
package main

import "github.com/JakeFAU/paperscraper/cmd"

func main() {
	cmd.Execute()
}
