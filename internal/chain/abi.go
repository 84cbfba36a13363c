package chain

// scriptContractABI covers the read-only getters the renderer consumes.
const scriptContractABI = `[
  {"type":"function","name":"tokenURI","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"tokenIdToHash","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"hash","type":"bytes32"}]},
  {"type":"function","name":"projectScriptByIndex","stateMutability":"view",
   "inputs":[{"name":"projectId","type":"uint256"},{"name":"index","type":"uint256"}],
   "outputs":[{"name":"script","type":"string"}]},
  {"type":"function","name":"projectScriptInfo","stateMutability":"view",
   "inputs":[{"name":"projectId","type":"uint256"}],
   "outputs":[
     {"name":"scriptJSON","type":"string"},
     {"name":"scriptCount","type":"uint256"},
     {"name":"useHashString","type":"bool"},
     {"name":"ipfsHash","type":"string"},
     {"name":"locked","type":"bool"},
     {"name":"paused","type":"bool"}
   ]}
]`

const (
	methodTokenIDToHash        = "tokenIdToHash"
	methodProjectScriptInfo    = "projectScriptInfo"
	methodProjectScriptByIndex = "projectScriptByIndex"
)

// throwawayGetterKey is a publicly known key; it only fills the From field of
// eth_call requests and never signs anything.
const throwawayGetterKey = "0123456789012345678901234567890123456789012345678901234567890123"
