package engine

// Pair is one (key, value) entry of a PairList.
type Pair struct {
	Key   string
	Value string
}

// PairList is an ordered list of string key/value pairs. Operator argument
// declarations and invoke parameters both use it: keeping keys and values in
// one list preserves their positional correspondence structurally instead of
// relying on two containers staying in sync.
//
// Keys are not required to be unique; Get returns the first match.
type PairList struct {
	pairs []Pair
}

// NewPairList returns an empty PairList.
func NewPairList() *PairList {
	return &PairList{}
}

// PairListOf builds a PairList from alternating key, value strings.
// It panics if given an odd number of arguments.
func PairListOf(keysAndValues ...string) *PairList {
	if len(keysAndValues)%2 != 0 {
		panic("PairListOf: odd number of arguments")
	}
	l := NewPairList()
	for i := 0; i < len(keysAndValues); i += 2 {
		l.Add(keysAndValues[i], keysAndValues[i+1])
	}
	return l
}

// Add appends a pair.
func (l *PairList) Add(key, value string) {
	l.pairs = append(l.pairs, Pair{Key: key, Value: value})
}

// Len returns the number of pairs. A nil PairList has length zero.
func (l *PairList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.pairs)
}

// Get returns the value for the first pair with the given key.
func (l *PairList) Get(key string) (string, bool) {
	if l == nil {
		return "", false
	}
	for _, p := range l.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Keys returns the keys in order.
func (l *PairList) Keys() []string {
	if l == nil {
		return nil
	}
	keys := make([]string, len(l.pairs))
	for i, p := range l.pairs {
		keys[i] = p.Key
	}
	return keys
}

// Values returns the values in order.
func (l *PairList) Values() []string {
	if l == nil {
		return nil
	}
	values := make([]string, len(l.pairs))
	for i, p := range l.pairs {
		values[i] = p.Value
	}
	return values
}
