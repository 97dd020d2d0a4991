package network_test

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kadhash/dht/internal/idkey"
	"github.com/kadhash/dht/internal/network"
)

// scriptedPinger answers every Ping according to a per-NodeID script, so
// tests can simulate "head responds" vs "head is dead" deterministically.
type scriptedPinger struct {
	alive map[idkey.ID]bool
	calls []idkey.ID
}

func (p *scriptedPinger) Ping(ctx context.Context, c network.Contact) error {
	p.calls = append(p.calls, c.NodeID)
	if p.alive[c.NodeID] {
		return nil
	}
	return errors.New("unreachable")
}

func contactWithID(seed string) network.Contact {
	return network.Contact{
		NodeID:  idkey.FromSeed([]byte(seed)),
		Address: "127.0.0.1",
		Port:    9000,
	}
}

var _ = Describe("RoutingTable", func() {
	var (
		self  idkey.ID
		rtbl  *network.RoutingTable
		clk   *clock.Mock
		pinger *scriptedPinger
	)

	BeforeEach(func() {
		self = idkey.FromSeed([]byte("self-node"))
		clk = clock.NewMock()
		pinger = &scriptedPinger{alive: map[idkey.ID]bool{}}
		rtbl = network.New(self, clk, pinger)
	})

	It("places a contact in the bucket its XOR distance dictates", func() {
		c := contactWithID("peer-1")
		Expect(rtbl.Update(context.Background(), c)).To(Succeed())

		wantIdx, ok := rtbl.BucketIndexOf(c.NodeID)
		Expect(ok).To(BeTrue())
		Expect(rtbl.NonEmptyBucketIndices()).To(ContainElement(wantIdx))

		// Update stamps LastSeen with the table's clock.
		want := c
		want.LastSeen = clk.Now()
		closest := rtbl.Closest(c.NodeID, network.K)
		Expect(closest).To(ContainElement(want))
	})

	It("rejects adding the node's own identifier", func() {
		err := rtbl.Update(context.Background(), network.Contact{NodeID: self})
		Expect(err).To(Equal(network.ErrSelf))
	})

	It("refuses to add more than K contacts to a single bucket", func() {
		for i := 0; i <= network.K; i++ {
			c := network.Contact{NodeID: self}
			c.NodeID[0] = byte(i + 1) // forces distinct, same-bucket IDs below
			c.NodeID[19] = self[19] ^ 0x01
			Expect(rtbl.Update(context.Background(), c)).To(Succeed())
		}
		Expect(rtbl.Size()).To(BeNumerically("<=", network.K))
	})

	Describe("full-bucket eviction", func() {
		It("keeps the head and drops the newcomer when the head is alive", func() {
			// Populate one bucket with K live contacts, pre-marking each as
			// reachable so a later probe (if any) would succeed.
			var head network.Contact
			for i := 0; i < network.K; i++ {
				c := network.Contact{NodeID: self}
				c.NodeID[19] = self[19] ^ 0x01
				c.NodeID[18] = byte(i + 1)
				pinger.alive[c.NodeID] = true
				if i == 0 {
					head = c
				}
				Expect(rtbl.Update(context.Background(), c)).To(Succeed())
			}

			newcomer := network.Contact{NodeID: self}
			newcomer.NodeID[19] = self[19] ^ 0x01
			newcomer.NodeID[18] = byte(network.K + 1)

			Expect(rtbl.Update(context.Background(), newcomer)).To(Succeed())

			closest := rtbl.Closest(self, network.K+5)
			found := false
			for _, c := range closest {
				if c.NodeID == newcomer.NodeID {
					found = true
				}
			}
			Expect(found).To(BeFalse(), "newcomer must not be admitted when the head answers")

			headStillPresent := false
			for _, c := range closest {
				if c.NodeID == head.NodeID {
					headStillPresent = true
				}
			}
			Expect(headStillPresent).To(BeTrue(), "live head must survive eviction")
		})

		It("evicts the head and admits the newcomer when the head is dead", func() {
			var head network.Contact
			for i := 0; i < network.K; i++ {
				c := network.Contact{NodeID: self}
				c.NodeID[19] = self[19] ^ 0x01
				c.NodeID[18] = byte(i + 1)
				if i == 0 {
					head = c // left out of pinger.alive: unreachable
				}
				Expect(rtbl.Update(context.Background(), c)).To(Succeed())
			}

			newcomer := network.Contact{NodeID: self}
			newcomer.NodeID[19] = self[19] ^ 0x01
			newcomer.NodeID[18] = byte(network.K + 1)

			Expect(rtbl.Update(context.Background(), newcomer)).To(Succeed())

			closest := rtbl.Closest(self, network.K+5)
			var ids []idkey.ID
			for _, c := range closest {
				ids = append(ids, c.NodeID)
			}
			Expect(ids).To(ContainElement(newcomer.NodeID))
			Expect(ids).NotTo(ContainElement(head.NodeID))
		})
	})

	It("returns Closest contacts in nondecreasing XOR-distance order", func() {
		for i := 0; i < 15; i++ {
			c := contactWithID("peer-" + string(rune('a'+i)))
			_ = rtbl.Update(context.Background(), c)
		}
		target := idkey.FromSeed([]byte("some-target"))
		closest := rtbl.Closest(target, 30)
		for i := 1; i < len(closest); i++ {
			prev := idkey.Distance(target, closest[i-1].NodeID)
			cur := idkey.Distance(target, closest[i].NodeID)
			Expect(prev.Less(cur) || prev == cur).To(BeTrue())
		}
	})
})
