package chain

// Revision is a totally ordered protocol revision. Every validation rule in
// the execution core is gated on the revision active at a given
// (block number, block time) pair.
type Revision int

const (
	Frontier Revision = iota
	Homestead
	TangerineWhistle
	SpuriousDragon
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	Berlin
	London
	Paris
	Shanghai
	Cancun
)

func (r Revision) String() string {
	switch r {
	case Frontier:
		return "Frontier"
	case Homestead:
		return "Homestead"
	case TangerineWhistle:
		return "TangerineWhistle"
	case SpuriousDragon:
		return "SpuriousDragon"
	case Byzantium:
		return "Byzantium"
	case Constantinople:
		return "Constantinople"
	case Petersburg:
		return "Petersburg"
	case Istanbul:
		return "Istanbul"
	case Berlin:
		return "Berlin"
	case London:
		return "London"
	case Paris:
		return "Paris"
	case Shanghai:
		return "Shanghai"
	case Cancun:
		return "Cancun"
	}
	return "unknown"
}

// Revision returns the highest revision whose activation threshold is
// satisfied at (num, time). Revisions through Gray Glacier activate by block
// number; Shanghai onwards by block time. Paris does not activate by number
// alone: the merge is crossed when the terminal total difficulty is reached,
// which header processing detects via the difficulty dispatch; for revision
// selection Paris is reported once the merge-netsplit block is passed (where
// configured) or Shanghai time is reached.
func (c *Config) Revision(num uint64, time uint64) Revision {
	switch {
	case c.IsCancun(time):
		return Cancun
	case c.IsShanghai(time):
		return Shanghai
	case c.MergeNetsplitBlock != nil && isForked(c.MergeNetsplitBlock, num):
		return Paris
	case c.IsLondon(num):
		return London
	case c.IsBerlin(num):
		return Berlin
	case c.IsIstanbul(num):
		return Istanbul
	case c.IsPetersburg(num):
		return Petersburg
	case c.IsConstantinople(num):
		return Constantinople
	case c.IsByzantium(num):
		return Byzantium
	case c.IsSpuriousDragon(num):
		return SpuriousDragon
	case c.IsTangerineWhistle(num):
		return TangerineWhistle
	case c.IsHomestead(num):
		return Homestead
	}
	return Frontier
}
