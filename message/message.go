// Package message defines the values exchanged between a compiler client and
// the long-lived compiler server.
//
// A Request is the "envelope" for one compilation. It gets serialized by the
// codec layer and written as a single length-prefixed frame over the channel.
// The server answers with exactly one response frame, which decodes into a
// CompletedResponse or a version-mismatch failure.
package message

// ProtocolVersion must match the server's expected version exactly.
const ProtocolVersion int32 = 1

// Language tells the server which compiler to run. The client never interprets it.
type Language int32

const (
	CSharpCompile      Language = 0x44532521
	VisualBasicCompile Language = 0x44532522
)

func (l Language) String() string {
	switch l {
	case CSharpCompile:
		return "csharp"
	case VisualBasicCompile:
		return "visualbasic"
	}
	return "unknown"
}

// ArgumentID identifies how the server treats an Argument.
type ArgumentID int32

const (
	CurrentDirectory    ArgumentID = 0x51147221 // Working directory for the compilation
	CommandLineArgument ArgumentID = 0x51147222 // One original command-line token
	LibEnvVariable      ArgumentID = 0x51147223 // Value of the LIB environment variable
	KeepAlive           ArgumentID = 0x51147224 // Server idle timeout hint, in seconds
)

// Argument is one (id, index, value) triple of a Request.
//
// For CommandLineArgument, Index is the zero-based position among command-line
// tokens only. Metadata arguments always use index 0.
type Argument struct {
	ID    ArgumentID
	Index int32
	Value string
}

// Request carries everything the server needs to run one compilation.
type Request struct {
	ProtocolVersion int32
	Language        Language
	Arguments       []Argument
}

// RequestOption adds an optional metadata argument to a new Request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	libEnv    *string
	keepAlive *string
}

// WithLibEnv forwards the LIB environment variable.
func WithLibEnv(value string) RequestOption {
	return func(o *requestOptions) { o.libEnv = &value }
}

// WithKeepAlive asks the server to stay idle for the given number of seconds.
func WithKeepAlive(value string) RequestOption {
	return func(o *requestOptions) { o.keepAlive = &value }
}

// NewRequest builds a Request in wire order: current directory first, then the
// optional LIB value, then the optional keep-alive, then the command-line
// arguments in their original order with contiguous indices from 0.
func NewRequest(lang Language, currentDir string, args []string, opts ...RequestOption) *Request {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	arguments := make([]Argument, 0, len(args)+3)
	arguments = append(arguments, Argument{ID: CurrentDirectory, Value: currentDir})
	if o.libEnv != nil {
		arguments = append(arguments, Argument{ID: LibEnvVariable, Value: *o.libEnv})
	}
	if o.keepAlive != nil {
		arguments = append(arguments, Argument{ID: KeepAlive, Value: *o.keepAlive})
	}
	for i, arg := range args {
		arguments = append(arguments, Argument{ID: CommandLineArgument, Index: int32(i), Value: arg})
	}

	return &Request{
		ProtocolVersion: ProtocolVersion,
		Language:        lang,
		Arguments:       arguments,
	}
}

// Utf8Output reports whether the command line asks for UTF-8 output.
// Only an exact, case-sensitive /utf8output or -utf8output token counts.
func (r *Request) Utf8Output() bool {
	for _, arg := range r.Arguments {
		if arg.ID == CommandLineArgument && (arg.Value == "/utf8output" || arg.Value == "-utf8output") {
			return true
		}
	}
	return false
}

// Lookup returns the value of the first metadata argument with the given id.
func (r *Request) Lookup(id ArgumentID) (string, bool) {
	for _, arg := range r.Arguments {
		if arg.ID == id {
			return arg.Value, true
		}
	}
	return "", false
}

// CommandLine returns the command-line tokens ordered by their index.
func (r *Request) CommandLine() []string {
	var n int
	for _, arg := range r.Arguments {
		if arg.ID == CommandLineArgument {
			n++
		}
	}
	tokens := make([]string, n)
	for _, arg := range r.Arguments {
		if arg.ID == CommandLineArgument && arg.Index >= 0 && int(arg.Index) < n {
			tokens[arg.Index] = arg.Value
		}
	}
	return tokens
}

// ResponseType tags the body of a response frame.
type ResponseType int32

const (
	MismatchedVersion ResponseType = 0 // Server speaks another protocol version; no body
	Completed         ResponseType = 1 // Compilation ran; body is a CompletedResponse
)

// CompletedResponse is the result of a compilation run by the server.
// It only exists after a fully successful decode.
type CompletedResponse struct {
	ExitCode    int32
	Utf8Output  bool   // Render Output/ErrorOutput as UTF-8 instead of the console code page
	Output      string // Captured standard output of the compiler
	ErrorOutput string // Captured standard error of the compiler
}
