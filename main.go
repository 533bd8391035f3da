// Command contact-crawler runs the company contact crawl worker.
package main

import "github.com/JakeFAU/contact-crawler/cmd"

func main() {
	cmd.Execute()
}
