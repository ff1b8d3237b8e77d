package vm

// keyTable maps property names to the 32-bit key ids stored in object
// key blocks. Ids are dense and never reused for the life of the Env,
// so a key block stays valid across collections without rewriting.
type keyTable struct {
	ids   map[string]uint32
	names []string
}

func newKeyTable() keyTable {
	return keyTable{ids: make(map[string]uint32)}
}

// intern returns the id of name, assigning the next free id on first use.
func (k *keyTable) intern(name string) uint32 {
	id, ok := k.ids[name]
	if !ok {
		id = uint32(len(k.names))
		k.ids[name] = id
		k.names = append(k.names, name)
	}
	return id
}

// find reports the id of name without assigning one. A name that was
// never interned cannot be a key of any object.
func (k *keyTable) find(name string) (uint32, bool) {
	id, ok := k.ids[name]
	return id, ok
}

func (k *keyTable) name(id uint32) string {
	if int(id) < len(k.names) {
		return k.names[id]
	}
	return ""
}
