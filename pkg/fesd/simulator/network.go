package simulator

import (
	"fmt"
	"sync"

	"github.com/berfenger/fesd/pkg/fesd/transport"
)

// Network is a set of named buses that can be opened like serial ports.
type Network struct {
	mu    sync.Mutex
	buses map[string]*Bus
}

func NewNetwork(buses ...*Bus) *Network {
	n := &Network{buses: make(map[string]*Bus, len(buses))}
	for _, b := range buses {
		n.buses[b.Name()] = b
	}
	return n
}

func (n *Network) Add(b *Bus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buses[b.Name()] = b
}

func (n *Network) Bus(name string) *Bus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.buses[name]
}

func (n *Network) Open(name string) (transport.Port, error) {
	n.mu.Lock()
	b, ok := n.buses[name]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNoSuchPort)
	}
	p, err := b.Open()
	if err != nil {
		return nil, err
	}
	return p, nil
}

var _ transport.Opener = (*Network)(nil)
