package networkname

const (
	Mainnet = "mainnet"
	Goerli  = "goerli"
	Rinkeby = "rinkeby"
	Sepolia = "sepolia"
	Holesky = "holesky"
	Dev     = "dev"
)

var All = []string{
	Mainnet,
	Goerli,
	Rinkeby,
	Sepolia,
	Holesky,
	Dev,
}
