package core

// Segments is the pending output of one response for a vectored write:
// the header bytes held in the write buffer, then the mapped file body.
type Segments struct {
	head []byte
	file []byte
	vec  [2][]byte
}

// Set replaces both segments
func (s *Segments) Set(head, file []byte) {
	s.head = head
	s.file = file
}

// Reset drops both segments
func (s *Segments) Reset() {
	s.head = nil
	s.file = nil
	s.vec = [2][]byte{}
}

// Len returns the bytes left to send
func (s *Segments) Len() int {
	return len(s.head) + len(s.file)
}

// Vec returns the non-empty segments in send order
func (s *Segments) Vec() [][]byte {
	v := s.vec[:0]
	if len(s.head) > 0 {
		v = append(v, s.head)
	}
	if len(s.file) > 0 {
		v = append(v, s.file)
	}
	return v
}

// Advance consumes n written bytes. A transfer larger than the head
// drains it and moves into the file segment. It returns how many bytes
// came from the head, which the caller retires from the write buffer.
func (s *Segments) Advance(n int) int {
	if n > len(s.head) {
		head := len(s.head)
		s.file = s.file[n-head:]
		s.head = nil
		return head
	}
	s.head = s.head[n:]
	return n
}
