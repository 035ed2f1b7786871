package proc

// Sink receives one instruction count per completed invocation of a
// traced function, in the order the invocations complete.
type Sink interface {
	Record(fn *Function, count uint64)
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(fn *Function, count uint64)

// Record calls f(fn, count).
func (f SinkFunc) Record(fn *Function, count uint64) { f(fn, count) }

// Call is one counted invocation.
type Call struct {
	Function *Function
	Count    uint64
}

// FunctionStats aggregates the invocations of one function.
type FunctionStats struct {
	Name  string
	Calls int
	Min   uint64
	Max   uint64
	Total uint64
}

// Recorder is a Sink that keeps every call in memory.
type Recorder struct {
	Calls []Call
	// Next, if set, also receives every record.
	Next Sink
}

// Record implements Sink.
func (r *Recorder) Record(fn *Function, count uint64) {
	r.Calls = append(r.Calls, Call{Function: fn, Count: count})
	if r.Next != nil {
		r.Next.Record(fn, count)
	}
}

// Stats returns per function statistics, in order of first completion.
func (r *Recorder) Stats() []FunctionStats {
	var stats []FunctionStats
	idx := make(map[*Function]int)
	for _, c := range r.Calls {
		i, ok := idx[c.Function]
		if !ok {
			i = len(stats)
			idx[c.Function] = i
			stats = append(stats, FunctionStats{Name: c.Function.Name, Min: c.Count})
		}
		s := &stats[i]
		s.Calls++
		s.Total += c.Count
		if c.Count < s.Min {
			s.Min = c.Count
		}
		if c.Count > s.Max {
			s.Max = c.Count
		}
	}
	return stats
}
