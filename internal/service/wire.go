package service

import (
	"github.com/kadhash/dht/internal/idkey"
	"github.com/kadhash/dht/internal/network"
	"github.com/kadhash/dht/internal/rpcmsg"
)

func toWireContact(c network.Contact) rpcmsg.WireContact {
	return rpcmsg.WireContact{NodeID: c.NodeID.String(), Address: c.Address, Port: c.Port}
}

func fromWireContact(w rpcmsg.WireContact) (network.Contact, error) {
	id, err := idkey.FromHex(w.NodeID)
	if err != nil {
		return network.Contact{}, err
	}
	return network.Contact{NodeID: id, Address: w.Address, Port: w.Port}, nil
}

func toWireContacts(cs []network.Contact) []rpcmsg.WireContact {
	out := make([]rpcmsg.WireContact, len(cs))
	for i, c := range cs {
		out[i] = toWireContact(c)
	}
	return out
}

func fromWireContacts(ws []rpcmsg.WireContact) []network.Contact {
	out := make([]network.Contact, 0, len(ws))
	for _, w := range ws {
		c, err := fromWireContact(w)
		if err != nil {
			continue // malformed peer-supplied contact, drop it
		}
		out = append(out, c)
	}
	return out
}
