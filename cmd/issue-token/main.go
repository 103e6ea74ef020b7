// issue-token prints a signed bearer token for an operator or admin.
// Identity is never looked up: whoever can run this with JWT_SECRET can act as anyone.
//
// Usage:
//
//	JWT_SECRET=... go run ./cmd/issue-token -actor op1@tp01 -role operator -site TP01
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/utils"
)

func main() {
	actor := flag.String("actor", "", "actor name carried in the token")
	role := flag.String("role", string(models.RoleOperator), "admin or operator")
	site := flag.String("site", "", "site code (required for operators)")
	flag.Parse()

	r := models.Role(*role)
	if *actor == "" || !r.IsValid() {
		fmt.Fprintln(os.Stderr, "-actor and a valid -role are required")
		flag.Usage()
		os.Exit(2)
	}
	if r == models.RoleOperator && *site == "" {
		fmt.Fprintln(os.Stderr, "operators need -site")
		os.Exit(2)
	}

	token, err := utils.JwtGenerate(*actor, *role, *site)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
