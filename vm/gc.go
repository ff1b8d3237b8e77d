package vm

// ---------------------------------------------------------------------------
// Copying collector
// ---------------------------------------------------------------------------

// collect copies every reachable object into the inactive semi-space and
// makes it active. Roots are updated in place: the evaluation stack, the
// scope register, host references, handler scopes and the environment's
// own values. References held in Go variables are not roots.
func (e *Env) collect() {
	h := &e.heap
	from := h.active
	to := 1 - from
	before := h.spaces[from].Used()

	h.spaces[to].Reset()
	e.toSpace = to

	for i := 0; i < e.sp; i++ {
		e.stack[i] = e.forward(e.stack[i])
	}
	for i := range e.refs {
		e.refs[i] = e.forward(e.refs[i])
	}
	for i := range e.handlers {
		e.handlers[i].scope = e.forward(e.handlers[i].scope)
	}
	e.scope = e.forward(e.scope)
	e.globals = e.forward(e.globals)
	e.objectProto = e.forward(e.objectProto)
	e.result = e.forward(e.result)
	e.thrown = e.forward(e.thrown)

	// Cheney scan: everything between scan and the allocation cursor has
	// been copied but its fields still point into from-space.
	base := h.bases[to]
	for scan := base; scan < base+h.spaces[to].Used(); {
		scan += e.scanObject(scan)
	}

	h.spaces[from].Reset()
	h.active = to
	e.toSpace = -1
	e.collections++
	log.Debugf("gc #%d: %d -> %d bytes live", e.collections, before, h.spaces[to].Used())

	if e.onGC != nil {
		e.onGC()
	}
}

// inToSpace reports whether off lies in the space being copied into.
func (e *Env) inToSpace(off int) bool {
	base := e.heap.bases[e.toSpace]
	return off >= base && off < base+e.heap.spaces[e.toSpace].Cap()
}

// forward returns the to-space copy of v, copying the object on first
// visit and leaving a forwarding record behind.
func (e *Env) forward(v Value) Value {
	if !v.isHeap() {
		return v
	}
	off := v.offset()
	if e.inToSpace(off) {
		return v
	}
	if e.magic(off) == magicForward {
		return v.moved(e.count(off))
	}
	size := e.objectBytes(off)
	to := e.heap.spaces[e.toSpace]
	rel, _ := to.Alloc(size)
	dst := e.heap.bases[e.toSpace] + rel
	copy(e.heap.mem[dst:dst+size], e.heap.mem[off:off+size])
	e.heap.mem[off] = magicForward
	e.setCount(off, dst)
	return v.moved(dst)
}

func (e *Env) forwardAt(off int) {
	e.setVal(off, e.forward(e.val(off)))
}

// scanObject fixes the fields of the copied object at off and returns its
// size.
func (e *Env) scanObject(off int) int {
	switch e.magic(off) {
	case magicArray:
		e.forwardAt(off + 16)
		if data := e.val(off + 16); data != Undefined {
			d := data.offset() + headerSize
			for i := e.u32(off + 8); i < e.u32(off+12); i++ {
				e.forwardAt(d + 8*i)
			}
		}
	case magicSlots:
		for i := 0; i < e.count(off); i++ {
			e.forwardAt(off + headerSize + 8*i)
		}
	case magicObject:
		e.forwardAt(off + 16)
		e.forwardAt(off + 24)
		e.forwardAt(off + 32)
	case magicFunction:
		e.forwardAt(off + 8)
	case magicScope:
		e.forwardAt(off + 8)
		e.forwardAt(off + 16)
	}
	// Strings, buffers, key tables and foreign objects hold no values.
	// Array data is fixed through its array, live range only.
	return e.objectBytes(off)
}

// GC forces a collection.
func (e *Env) GC() {
	if !e.err.Failed() {
		e.collect()
	}
}
