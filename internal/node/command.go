package node

import (
	"github.com/sourcerouted/overlay/internal/link"
	"github.com/sourcerouted/overlay/internal/message"
)

// Command is an instruction delivered to a node from its supervisor,
// biased above inbound packet traffic in the node's select loop.
type Command interface{ isCommand() }

// CmdQuit requests a graceful shutdown: the role is stopped, the
// send-queue worker is told to quit and joined, then Run returns.
type CmdQuit struct{}

// CmdAddNeighbour installs l as the link to neighbor and re-triggers
// discovery, since the topology just changed.
type CmdAddNeighbour struct {
	Peer uint8
	Link link.Link
}

// CmdRemoveNeighbour tears down the link to neighbor, if any, and
// re-triggers discovery.
type CmdRemoveNeighbour struct {
	Peer uint8
}

// CmdSendMessage asks the role to originate a request addressed to Peer.
type CmdSendMessage struct {
	Peer    uint8
	Request message.Message
}

func (CmdQuit) isCommand()           {}
func (CmdAddNeighbour) isCommand()   {}
func (CmdRemoveNeighbour) isCommand() {}
func (CmdSendMessage) isCommand()    {}
