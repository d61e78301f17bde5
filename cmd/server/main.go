package main

import "github.com/tudorilade/events-scheduler/cmd/server/cmd"

func main() {
	cmd.Execute()
}
