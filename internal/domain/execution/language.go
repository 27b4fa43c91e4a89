package execution

// Language identifies a programming language known to the registry.
type Language string

const (
	LanguagePython Language = "python"
	LanguageCPP    Language = "cpp"
	LanguageJava   Language = "java"
)

// Isolation names the strategy that produced an Outcome.
type Isolation string

const (
	// IsolationContainer runs code in an ephemeral, network-disabled container
	// with a memory ceiling enforced by the container runtime.
	IsolationContainer Isolation = "container"
	// IsolationLocal runs code as a host child process. Only the wall-clock
	// timeout is enforced; there is no sandbox and no memory accounting.
	IsolationLocal Isolation = "local"
)
