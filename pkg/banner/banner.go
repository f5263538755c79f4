package banner

import (
	"fmt"

	"chatsync/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// PrintWithEff prints the banner using an EffectiveConfigResult which
// provides richer context (config, addr, dbpath, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /ws?user=<id> - Websocket event stream (message:send/edit/delete, typing)")
	fmt.Println("GET  /v1/conversations/{id}/messages?limit=<n> - Conversation history")
	fmt.Println("POST /v1/conversations/{id}/messages - Add a message over REST")
	fmt.Println("POST /v1/chat/upload - Multipart attachment upload")

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl 'http://localhost%s/v1/conversations/c1/messages?limit=50'\n", addr)
	fmt.Printf("curl -F file=@photo.jpg 'http://localhost%s/v1/chat/upload'\n", addr)

	fmt.Println("\n== Production? =================================================")
	if eff.Config != nil {
		be := len(eff.Config.Security.APIKeys.Backend)
		fe := len(eff.Config.Security.APIKeys.Frontend)
		if be == 0 && fe == 0 {
			fmt.Println("No API keys configured: set security.api_keys before exposing this")
		}
		if eff.Config.Security.APIKeys.AllowUnauth {
			fmt.Println("allow_unauth is set: anonymous clients are accepted (dev only)")
		}
	}
	fmt.Println("Set a proper storage path (--db)")
	fmt.Println()
}
