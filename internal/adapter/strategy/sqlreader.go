package strategy

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// statement is one executable unit of a SQL script. Copy holds the inline
// data of a "COPY ... FROM stdin" statement.
type statement struct {
	SQL    string
	IsCopy bool
	Copy   []byte
	Line   int
}

var copyFromStdin = regexp.MustCompile(`(?is)^COPY\s.+\sFROM\s+stdin`)

// statementReader splits a SQL script into statements. It tracks quoted
// literals, quoted identifiers, comments, dollar quotes and client
// directives (psql backslash commands, mysql DELIMITER) so that delimiters
// inside them do not end a statement.
type statementReader struct {
	r       *bufio.Reader
	d       dialect
	line    int
	pending []statement

	delimiter string
	buf       strings.Builder
	content   bool

	inQuote   byte
	inBlock   bool
	dollarTag string
	eof       bool
}

func newStatementReader(r io.Reader, d dialect) *statementReader {
	return &statementReader{
		r:         bufio.NewReaderSize(r, 1024*1024),
		d:         d,
		delimiter: ";",
	}
}

// Next returns the next statement, or io.EOF once the script is exhausted.
func (s *statementReader) Next() (statement, error) {
	for len(s.pending) == 0 {
		if s.eof {
			return statement{}, io.EOF
		}
		line, err := s.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return statement{}, fmt.Errorf("read error at line %d: %w", s.line+1, err)
		}
		if err == io.EOF {
			s.eof = true
			if line != "" {
				if scanErr := s.scanLine(line); scanErr != nil {
					return statement{}, scanErr
				}
			}
			s.flush()
			continue
		}
		if scanErr := s.scanLine(line); scanErr != nil {
			return statement{}, scanErr
		}
	}
	stmt := s.pending[0]
	s.pending = s.pending[1:]
	return stmt, nil
}

func (s *statementReader) idle() bool {
	return s.inQuote == 0 && !s.inBlock && s.dollarTag == "" && !s.content && strings.TrimSpace(s.buf.String()) == ""
}

func (s *statementReader) scanLine(line string) error {
	s.line++

	if s.idle() {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, `\`):
			// psql meta command such as \connect or \restrict
			return nil
		case len(trimmed) > 10 && strings.EqualFold(trimmed[:10], "DELIMITER "):
			s.delimiter = strings.TrimSpace(trimmed[10:])
			return nil
		}
	}

	for i := 0; i < len(line); {
		c := line[i]

		switch {
		case s.inQuote != 0:
			if c == '\\' && s.inQuote == '\'' && s.d.backslashEscapes && i+1 < len(line) {
				s.buf.WriteString(line[i : i+2])
				i += 2
				continue
			}
			if c == s.inQuote {
				s.inQuote = 0
			}
			s.buf.WriteByte(c)
			i++
			continue

		case s.inBlock:
			if strings.HasPrefix(line[i:], "*/") {
				s.inBlock = false
				s.buf.WriteString("*/")
				i += 2
				continue
			}
			s.buf.WriteByte(c)
			i++
			continue

		case s.dollarTag != "":
			if strings.HasPrefix(line[i:], s.dollarTag) {
				s.buf.WriteString(s.dollarTag)
				i += len(s.dollarTag)
				s.dollarTag = ""
				continue
			}
			s.buf.WriteByte(c)
			i++
			continue
		}

		rest := line[i:]
		switch {
		case strings.HasPrefix(rest, s.delimiter):
			i += len(s.delimiter)
			if s.emit() {
				// COPY data starts on the next line
				return s.readCopyData()
			}
			continue
		case strings.HasPrefix(rest, "--"), c == '#' && s.d.backslashEscapes:
			s.buf.WriteByte('\n')
			i = len(line)
			continue
		case strings.HasPrefix(rest, "/*"):
			s.inBlock = true
			// mysql executes /*! ... */ version comments
			if strings.HasPrefix(rest, "/*!") {
				s.content = true
			}
			s.buf.WriteString("/*")
			i += 2
			continue
		case c == '\'' || c == '"' || c == '`':
			s.inQuote = c
			s.content = true
		case c == '$' && s.d.dollarQuotes:
			if tag := dollarTagAt(rest); tag != "" {
				s.dollarTag = tag
				s.content = true
				s.buf.WriteString(tag)
				i += len(tag)
				continue
			}
		case c != ' ' && c != '\t' && c != '\r' && c != '\n':
			s.content = true
		}
		s.buf.WriteByte(c)
		i++
	}
	return nil
}

// dollarTagAt matches $$ or $tag$ at the start of s.
func dollarTagAt(s string) string {
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1]
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 1 && c >= '0' && c <= '9') {
			return ""
		}
	}
	return ""
}

// emit queues the buffered statement and reports whether it is a COPY FROM stdin.
func (s *statementReader) emit() bool {
	sql := strings.TrimSpace(s.buf.String())
	hasContent := s.content
	s.buf.Reset()
	s.content = false
	if !hasContent || sql == "" {
		return false
	}
	stmt := statement{SQL: sql, Line: s.line, IsCopy: copyFromStdin.MatchString(sql)}
	s.pending = append(s.pending, stmt)
	return stmt.IsCopy
}

// flush queues whatever is left at end of input; a statement without a
// trailing delimiter or with an unterminated literal is passed on as is.
func (s *statementReader) flush() {
	s.emit()
}

func (s *statementReader) readCopyData() error {
	var data bytes.Buffer
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read error at line %d: %w", s.line+1, err)
		}
		if line == "" && err == io.EOF {
			s.eof = true
			return fmt.Errorf("unterminated COPY data starting at line %d", s.pending[len(s.pending)-1].Line)
		}
		s.line++
		if strings.TrimRight(line, "\r\n") == `\.` {
			s.pending[len(s.pending)-1].Copy = data.Bytes()
			return nil
		}
		data.WriteString(line)
		if err == io.EOF {
			s.eof = true
			return fmt.Errorf("unterminated COPY data starting at line %d", s.pending[len(s.pending)-1].Line)
		}
	}
}
