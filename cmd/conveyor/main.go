package main

import (
	"github.com/conveyorci/conveyor/cmd/conveyor/commands"
	_ "github.com/conveyorci/conveyor/cmd/conveyor/commands/cleanup"
	_ "github.com/conveyorci/conveyor/cmd/conveyor/commands/graph"
	_ "github.com/conveyorci/conveyor/cmd/conveyor/commands/lint"
	_ "github.com/conveyorci/conveyor/cmd/conveyor/commands/publish"
	_ "github.com/conveyorci/conveyor/cmd/conveyor/commands/run"
	_ "github.com/conveyorci/conveyor/cmd/conveyor/commands/version"
)

func main() {
	commands.Execute()
}
