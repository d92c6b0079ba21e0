package audio

// Lease records who holds an exclusive audio resource.
//
// The zero value is [Free]. A held lease always carries a non-empty owner.
type Lease struct {
	owner string
}

// Free returns an unheld lease.
func Free() Lease { return Lease{} }

// HeldBy returns a lease held by owner. An empty owner yields [Free].
func HeldBy(owner string) Lease { return Lease{owner: owner} }

// IsFree reports whether nobody holds the resource.
func (l Lease) IsFree() bool { return l.owner == "" }

// Owner returns the holder and whether the lease is held.
func (l Lease) Owner() (string, bool) { return l.owner, l.owner != "" }

// Holds reports whether owner is the current holder.
func (l Lease) Holds(owner string) bool { return owner != "" && l.owner == owner }

func (l Lease) String() string {
	if l.IsFree() {
		return "free"
	}
	return "held by " + l.owner
}
