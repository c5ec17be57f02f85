package nmap

// Script is one queued tool invocation of the dynamic scan sequence.
type Script struct {
	Tool string   `json:"tool"`
	Args []string `json:"args"`
}

// Wordlists used by the follow-up scans.
type Wordlists struct {
	Directories string `yaml:"directories" json:"directories"`
	Passwords   string `yaml:"passwords" json:"passwords"`
}

// DefaultWordlists are the Kali locations.
var DefaultWordlists = Wordlists{
	Directories: "/usr/share/wordlists/dirb/common.txt",
	Passwords:   "/usr/share/wordlists/rockyou.txt",
}

// FollowUps returns the scans queued after an nmap run: gobuster, nikto
// and sqlmap per web host, then hydra against each ssh host (user root)
// and ftp host (user anonymous).
func FollowUps(f *Findings, wl Wordlists) []Script {
	if f == nil {
		return nil
	}
	if wl.Directories == "" {
		wl.Directories = DefaultWordlists.Directories
	}
	if wl.Passwords == "" {
		wl.Passwords = DefaultWordlists.Passwords
	}

	var out []Script
	for _, host := range f.Web {
		url := "http://" + host
		out = append(out,
			Script{Tool: "gobuster", Args: []string{"dir", "-u", url, "-w", wl.Directories, "-x", "php,txt"}},
			Script{Tool: "nikto", Args: []string{"-h", url}},
			Script{Tool: "sqlmap", Args: []string{"-u", url + "/?id=1", "--batch", "--level", "5"}},
		)
	}
	for _, host := range f.SSH {
		out = append(out, Script{Tool: "hydra", Args: []string{"-l", "root", "-P", wl.Passwords, "-t", "4", host, "ssh"}})
	}
	for _, host := range f.FTP {
		out = append(out, Script{Tool: "hydra", Args: []string{"-l", "anonymous", "-P", wl.Passwords, "-t", "4", host, "ftp"}})
	}
	return out
}
