package flow

import "fmt"

const portBufSize = 16

// InPort is a named input channel of a process. Each in port is fed by
// exactly one upstream out port.
type InPort struct {
	name string
	proc *Process
	ch   chan Artifact

	connected bool
}

// Name returns the port name as declared in the command template.
func (ip *InPort) Name() string { return ip.name }

// Connect wires this in port to an upstream out port. A port can only be
// connected once; keyed joins are expressed as separate in ports, not as
// multiple producers on one port.
func (ip *InPort) Connect(op *OutPort) {
	if ip.connected {
		panic(fmt.Sprintf("flow: in port %s.%s connected twice", ip.proc.name, ip.name))
	}
	ip.connected = true
	op.receivers = append(op.receivers, ip.ch)
}

// OutPort is a named output channel of a process. Sending broadcasts to
// every connected downstream in port, so one output can fan out to any
// number of consumers.
type OutPort struct {
	name      string
	proc      *Process
	receivers []chan Artifact
}

// Name returns the port name as declared in the command template.
func (op *OutPort) Name() string { return op.name }

func (op *OutPort) send(a Artifact) {
	for _, ch := range op.receivers {
		ch <- a
	}
}

func (op *OutPort) close() {
	for _, ch := range op.receivers {
		close(ch)
	}
}
